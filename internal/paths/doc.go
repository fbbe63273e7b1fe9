// Provides platform-appropriate paths for cruxrel.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The program name "cruxrel" is used as the
// subdirectory under each base path. Package directories and build
// directories are chosen by the caller and never derived here.
package paths
