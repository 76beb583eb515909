package main

import (
	"errors"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/cli"
)

func main() {
	klog.InitFlags(nil)

	root := cli.NewRootCommand()
	err := root.Execute()
	if err == nil {
		os.Exit(0)
	}

	var exitErr *cli.RunExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code())
		return
	}

	fmt.Fprintln(os.Stderr, "lecoder:", err)
	os.Exit(1)
}
