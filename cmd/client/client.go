package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sauravfouzdar/quorumfs/pkg/client"
	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

var (
	dispatcherAddr = flag.String("dispatcher", common.DefaultClientConfig.DispatcherAddress, "Dispatcher address")
	timeout        = flag.Duration("timeout", common.DefaultClientConfig.Timeout, "Request timeout")
)

// Command handler function type
type commandFunc func(args []string) error

type command struct {
	handler commandFunc
	usage   string
}

// Map of commands to handler functions
var commands map[string]command

func init() {
	commands = map[string]command{
		"ls":     {handleList, "ls [path] - List directory contents"},
		"cd":     {handleCd, "cd <path> - Change the current directory"},
		"pwd":    {handlePwd, "pwd - Print the current directory"},
		"mkdir":  {handleMkdir, "mkdir <path> - Create a directory"},
		"rmdir":  {handleRmdir, "rmdir <path> - Remove an empty directory"},
		"put":    {handlePut, "put <local> <remote> - Upload a local file"},
		"get":    {handleGet, "get <remote> <local> - Download a file"},
		"rm":     {handleRemove, "rm <path> - Remove a file"},
		"lock":   {handleLock, "lock <id> <identity> - Take a named lock"},
		"unlock": {handleUnlock, "unlock <id> <identity> - Release a named lock"},
		"help":   {handleHelp, "help - Show this help message"},
		"exit":   {handleExit, "exit - Exit the client"},
	}
}

// Global client
var fsClient *client.Client

// current directory of the shell, always absolute
var cwd = "/"

func main() {
	// Parse command line flags
	flag.Parse()

	// Create client
	var err error
	fsClient, err = client.NewClient(common.ClientConfig{
		DispatcherAddress: *dispatcherAddr,
		Timeout:           *timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	// Interactive mode
	fmt.Println("quorumfs client - Type 'help' for commands")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("quorumfs:%s> ", cwd)
		if !scanner.Scan() {
			break
		}

		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}

		if command, ok := commands[args[0]]; ok {
			if err := command.handler(args[1:]); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		} else {
			fmt.Printf("Unknown command: %s\n", args[0])
		}
	}
}

// resolve makes p absolute against the current directory
func resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(cwd, p)
}

// Command handlers

func handleHelp(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Commands:")
	for _, name := range names {
		fmt.Println("  " + commands[name].usage)
	}
	return nil
}

func handleList(args []string) error {
	dir := cwd
	if len(args) > 0 {
		dir = resolve(args[0])
	}

	entries, err := fsClient.List(context.Background(), dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		fmt.Println(entry)
	}
	return nil
}

func handleCd(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cd <path>")
	}

	dir := resolve(args[0])
	// listing fails unless dir is an existing directory
	if _, err := fsClient.List(context.Background(), dir); err != nil {
		return err
	}
	cwd = dir
	return nil
}

func handlePwd(args []string) error {
	fmt.Println(cwd)
	return nil
}

func handleMkdir(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mkdir <path>")
	}
	return fsClient.Mkdir(context.Background(), resolve(args[0]))
}

func handleRmdir(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rmdir <path>")
	}
	return fsClient.Rmdir(context.Background(), resolve(args[0]))
}

func handlePut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: put <local> <remote>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return fsClient.Upload(context.Background(), resolve(args[1]), data)
}

func handleGet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: get <remote> <local>")
	}

	file, err := os.Create(args[1])
	if err != nil {
		return err
	}

	if err := fsClient.Download(context.Background(), resolve(args[0]), file); err != nil {
		file.Close()
		os.Remove(args[1])
		return err
	}
	return file.Close()
}

func handleRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rm <path>")
	}
	return fsClient.Remove(context.Background(), resolve(args[0]))
}

func handleLock(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: lock <id> <identity>")
	}

	ok, err := fsClient.Lock(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s is held by someone else", args[0])
	}
	return nil
}

func handleUnlock(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: unlock <id> <identity>")
	}

	ok, err := fsClient.Unlock(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s is not held by %s", args[0], args[1])
	}
	return nil
}

func handleExit(args []string) error {
	fmt.Println("Exiting...")
	os.Exit(0)
	return nil
}
