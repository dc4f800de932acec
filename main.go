/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package main

import "github.com/allbin/forcerig/cmd"

func main() {
	cmd.Execute()
}
