package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func main() {
	cmd := "levels"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	if err := run(cmd, args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, cmd+":", err)
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(cmd string, args []string, w io.Writer) error {
	switch cmd {
	case "levels":
		return levelsCmd(args, w)
	case "state":
		return stateCmd(args, w)
	case "snapshot":
		return snapshotCmd(args, w)
	case "cell":
		return cellCmd(args, w)
	case "palette":
		return paletteCmd(args, w)
	case "chunk":
		return chunkCmd(args, w)
	case "export":
		return exportCmd(args, w)
	case "import":
		return importCmd(args, w)
	case "journal":
		return journalCmd(args, w)
	default:
		return usageError("unknown command " + strconv.Quote(cmd) + " (levels|state|snapshot|cell|palette|chunk|export|import|journal)")
	}
}

func levelsCmd(args []string, w io.Writer) error {
	fs := newFlagSet("levels")
	dataDir := fs.String("data", "./data", "runtime data directory")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	entries, err := os.ReadDir(filepath.Join(*dataDir, "levels"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintln(w, e.Name())
		}
	}
	return nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
