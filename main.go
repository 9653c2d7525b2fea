package main

import (
	"github.com/quizforge/quizforge/cmd"
)

func main() {
	cmd.Execute()
}
