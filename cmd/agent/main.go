package main

import "github.com/candor-labs/interview-agent/internal/bootstrap"

func main() {
	bootstrap.Run()
}
