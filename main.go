package main

import "github.com/ridoystarlord/auditconverge/cmd"

func main() {
	cmd.Execute()
}
