package main

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/edgelink/rtnet/cmd"
)

func main() {
	go http.ListenAndServe("localhost:0", nil)
	cmd.Execute()
}
