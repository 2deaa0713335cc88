package main

import (
	"fmt"

	"github.com/livecast/overlay-delivery-service/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
