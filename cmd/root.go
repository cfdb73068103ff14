package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "quotewatch"}

	root.AddCommand(serveCMD(), migrateCMD(), scanCMD())
	_ = root.Execute()
}
