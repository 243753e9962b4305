package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "tably"}

	root.AddCommand(serveCMD())
	_ = root.Execute()
}
