// Command sqlitefs mounts a SQLite-backed file system at a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sqlitefs/sqlitefs/internal/fuseadapter"
	"github.com/sqlitefs/sqlitefs/internal/sqlitefs"
	"github.com/sqlitefs/sqlitefs/internal/store"
)

var (
	fDB         = flag.String("db", "", "Path to the SQLite database file backing the file system.")
	fDebug      = flag.Bool("debug", false, "Log every upcall and response.")
	fReadOnly   = flag.Bool("ro", false, "Mount read-only.")
	fAllowOther = flag.Bool("allow-other", false, "Allow users other than the mounting user to access the file system.")
	fCheck      = flag.Bool("check", false, "Check the database for consistency and exit without mounting.")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s --db=<path> [flags] <mountpoint>\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *fDB == "" {
		fmt.Fprintln(os.Stderr, "you must set --db")
		usage()
		os.Exit(2)
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	if *fDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	st, err := store.Open(*fDB, log)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer st.Close()

	if *fCheck {
		problems, err := sqlitefs.CheckInvariants(st)
		if err != nil {
			log.WithError(err).Fatal("running consistency check")
		}
		if len(problems) == 0 {
			fmt.Println("ok")
			return
		}
		for _, p := range problems {
			fmt.Println(p)
		}
		os.Exit(1)
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	mountpoint := flag.Arg(0)

	fs := sqlitefs.New(st, log)

	cfg := &fuseadapter.MountConfig{
		ReadOnly:   *fReadOnly,
		AllowOther: *fAllowOther,
		FSName:     "sqlitefs",
		Log:        log,
	}

	mfs, err := fuseadapter.Mount(mountpoint, fs, cfg)
	if err != nil {
		log.WithError(err).Fatal("mount")
	}

	if err := mfs.Join(context.Background()); err != nil {
		log.WithError(err).Fatal("serving file system")
	}
}
