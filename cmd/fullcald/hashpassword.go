package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"fullcal/internal/web"
)

// hashPasswordCommand handles the hash-password subcommand: prompt for
// credentials, hash the password with argon2id and print the config snippet
// to paste into the auth block.
func hashPasswordCommand(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	insecureUnmask := fs.Bool("insecure-unmask-password", false, "Show password as plain text (INSECURE!)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fullcald hash-password [OPTIONS]\n\n")
		fmt.Fprintf(os.Stderr, "Hashes a password (argon2id) and prints the auth config snippet.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	fmt.Print("Enter username: ")
	var username string
	if _, err := fmt.Scanln(&username); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading username: %v\n", err)
		os.Exit(1)
	}
	if username == "" {
		fmt.Fprintf(os.Stderr, "Username cannot be empty\n")
		os.Exit(1)
	}

	var password, passwordConfirm string
	if *insecureUnmask {
		fmt.Fprintf(os.Stderr, "WARNING: Password will be visible on screen!\n")
		fmt.Print("Enter password:   ")
		if _, err := fmt.Scanln(&password); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
			os.Exit(1)
		}
		fmt.Print("Confirm password: ")
		if _, err := fmt.Scanln(&passwordConfirm); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password confirmation: %v\n", err)
			os.Exit(1)
		}
	} else {
		password = readPasswordWithMask("Enter password:   ")
		passwordConfirm = readPasswordWithMask("Confirm password: ")
	}

	if password == "" {
		fmt.Fprintf(os.Stderr, "Password cannot be empty\n")
		os.Exit(1)
	}
	if password != passwordConfirm {
		fmt.Fprintf(os.Stderr, "Passwords do not match\n")
		os.Exit(1)
	}

	hash, err := web.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nAdd this to your config file:\n\n")
	fmt.Printf("auth:\n")
	fmt.Printf("  username: %s\n", username)
	fmt.Printf("  password_hash: \"%s\"\n", hash)
}

// readPasswordWithMask reads password input and echoes asterisks.
func readPasswordWithMask(prompt string) string {
	fmt.Print(prompt)

	oldState, err := term.MakeRaw(int(syscall.Stdin))
	if err != nil {
		// Not a terminal we can control; fall back to hidden input.
		password, _ := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		return string(password)
	}
	defer term.Restore(int(syscall.Stdin), oldState)

	var password []byte
	reader := bufio.NewReader(os.Stdin)

	for {
		char, _, err := reader.ReadRune()
		if err != nil {
			break
		}

		switch char {
		case '\n', '\r': // Enter
			fmt.Println()
			return string(password)
		case 127, 8: // Backspace / Delete
			if len(password) > 0 {
				password = password[:len(password)-1]
				fmt.Print("\b \b")
			}
		case 3: // Ctrl+C
			fmt.Println()
			term.Restore(int(syscall.Stdin), oldState)
			os.Exit(1)
		default:
			if char >= 32 && char <= 126 {
				password = append(password, byte(char))
				fmt.Print("*")
			}
		}
	}

	fmt.Println()
	return string(password)
}
