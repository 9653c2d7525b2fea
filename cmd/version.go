package cmd

// Version is the application version, intended to be overridden at build
// time with -ldflags "-X github.com/quizforge/quizforge/cmd.Version=...".
var Version = "0.1.0"
