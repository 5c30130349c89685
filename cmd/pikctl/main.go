package main

import "github.com/fateworks/pik/internal/pikctl"

func main() {
	pikctl.Execute()
}
