package build

// Version is the current version of the aurex daemons.
const Version = "0.2.0"
