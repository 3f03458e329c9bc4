// Entrypoint for the cobra CLI; delegates to the root command in cmd/root.go.

package main

import (
	"github.com/megha95/vllm/cmd"
)

func main() {
	cmd.Execute()
}
