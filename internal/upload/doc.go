// Package upload publishes a build directory to a content-addressed store.
//
// Two interchangeable backends implement [Backend]:
//
//   - "ipfs" posts the directory as a multipart "add" request to an IPFS
//     HTTP API and returns "/ipfs/<root hash>". Before uploading it places a
//     copy of the default-architecture archive under the legacy archive
//     name when that name is missing, so older consumers still find it.
//   - "swarm" posts the directory as a single deterministic tar to a Bee
//     node and returns "/bzz/<reference>".
//
// Exactly one backend is selected by [New] from a [Config]. Both stream the
// directory without buffering it in memory and report fractional progress
// on an optional channel. Sends on the channel never block: a slow consumer
// misses intermediate updates rather than slowing the upload. Failures are
// returned as errors wrapping [ErrUpload]; nothing is retried.
//
// Example usage:
//
//	b, err := upload.New(upload.Config{Kind: upload.IPFS, Provider: "http://127.0.0.1:5001"})
//	if err != nil {
//	    return err
//	}
//
//	events := make(chan upload.Progress, 16)
//	go func() {
//	    for p := range events {
//	        fmt.Printf("%.0f%%\n", p.Fraction*100)
//	    }
//	}()
//
//	addr, err := b.Upload(ctx, upload.Request{Dir: "build_1.0.0", Name: "foo", Version: "1.0.0"}, events)
//	close(events)
package upload
