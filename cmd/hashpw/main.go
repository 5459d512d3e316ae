// Command hashpw prints the argon2id hash of a password for the
// auth.operators section of the config file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
)

func main() {
	password := flag.String("password", "", "password to hash; read from stdin when empty")
	defaults := auth.DefaultArgon2Params()
	memory := flag.Uint("memory", uint(defaults.Memory), "argon2id memory in KiB")
	iterations := flag.Uint("iterations", uint(defaults.Iterations), "argon2id passes")
	flag.Parse()

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "hashpw: no password given")
			os.Exit(2)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "hashpw: empty password")
		os.Exit(2)
	}

	hash, err := auth.NewPasswordHasherWithCost(uint32(*memory), uint32(*iterations)).HashPassword(pw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpw: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
