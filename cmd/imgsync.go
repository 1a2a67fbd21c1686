package main

import (
	"fmt"
	"os"

	"imgsync/cmd/subcmd"
	"imgsync/impl/config"
	"imgsync/impl/globals"
)

// populated by the linker at build time
var (
	buildVer string = "SNAPSHOT"
	buildDtm string = "n/a"
)

func main() {
	fromCmdline, err := getCfg()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	globals.ConfigureLogging(config.GetLogLevel(), config.GetLogFile())

	switch fromCmdline.Command {
	case "serve":
		err = subcmd.Serve(buildVer, buildDtm)
	case "sync":
		err = subcmd.Sync(fromCmdline.Args)
	case "save":
		err = subcmd.Save(fromCmdline.Args, fromCmdline.Format)
	case "version":
		fmt.Printf("imgsync version: %s build date: %s\n", buildVer, buildDtm)
	case "":
		// no sub-command - the parser already displayed help
	default:
		err = fmt.Errorf("unknown command: %s", fromCmdline.Command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
