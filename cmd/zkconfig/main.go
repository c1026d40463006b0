package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/mikekulinski/zkconfig/internal/cli"
)

func main() {
	code := cli.Execute()
	glog.Flush()
	os.Exit(code)
}
