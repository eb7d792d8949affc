package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jask/bankfeed/internal/commands"
)

func main() {
	if err := commands.NewRootCommand(nil).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
