package engine

// Version is stamped by the build; the default marks a source build.
var Version = "dev"
