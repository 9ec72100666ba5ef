package main

import (
	homiecards "github.com/homie-scheduler/homie-cards"
)

func main() {
	homiecards.Main()
}
