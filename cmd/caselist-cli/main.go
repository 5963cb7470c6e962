package main

import (
	"caselist-scout/cmd/caselist-cli/commands"
	"caselist-scout/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
