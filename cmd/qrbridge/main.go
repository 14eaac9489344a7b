package main

import "github.com/MeKo-Tech/qrbridge/cmd/qrbridge/cmd"

func main() {
	cmd.Execute()
}
