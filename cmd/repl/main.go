// Command repl is the interactive command surface: Open, Close, Put, Get,
// Scan, Delete, Quit against one or more databases under a data root
// directory. Every Get and Scan prompts for a search strategy, Binary
// Search (1) or B-Tree Search (2).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/intellect4all/lsmkv/common"
	"github.com/intellect4all/lsmkv/lsm"
)

var (
	openRe   = regexp.MustCompile(`^Open\("([^"]+)"\)$`)
	closeRe  = regexp.MustCompile(`^Close\(\)$`)
	putRe    = regexp.MustCompile(`^Put\((\d+),(\d+)\)$`)
	getRe    = regexp.MustCompile(`^Get\((\d+)\)$`)
	scanRe   = regexp.MustCompile(`^Scan\((\d+),(\d+)\)$`)
	deleteRe = regexp.MustCompile(`^Delete\((\d+)\)$`)
	quitRe   = regexp.MustCompile(`^Quit\(\)$`)
)

// session tracks every database opened this run, keyed by name, and which
// one is current. There is no process-wide "last opened" state; every
// engine owns its directory explicitly.
type session struct {
	dataRoot    string
	open        map[string]*lsm.LSM
	current     string
	shutdownErr error
}

func newSession(dataRoot string) *session {
	return &session{dataRoot: dataRoot, open: make(map[string]*lsm.LSM)}
}

func (s *session) db() (*lsm.LSM, error) {
	if s.current == "" {
		return nil, common.ErrNoDatabaseOpen
	}
	return s.open[s.current], nil
}

func main() {
	dataRoot := flag.String("data-root", "./data", "root directory under which database directories are created")
	flag.Parse()

	s := newSession(*dataRoot)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 64*1024)

	quit := false
	for !quit {
		fmt.Printf("$%s: ", s.current)
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		quit = s.dispatch(in, line)
	}
	if !quit {
		// End of input without Quit() still flushes every open database.
		s.quit()
	}

	// A clean exit is 0; an unrecoverable I/O failure while flushing open
	// databases during shutdown is the only non-zero path.
	if s.shutdownErr != nil {
		os.Exit(1)
	}
}

// dispatch executes one command line and returns true if the REPL should
// exit (Quit()).
func (s *session) dispatch(in *bufio.Scanner, line string) bool {
	switch {
	case quitRe.MatchString(line):
		s.quit()
		return true

	case openRe.MatchString(line):
		name := openRe.FindStringSubmatch(line)[1]
		s.open_(name)

	case closeRe.MatchString(line):
		s.close()

	case putRe.MatchString(line):
		m := putRe.FindStringSubmatch(line)
		s.put(parseInt(m[1]), parseInt(m[2]))

	case deleteRe.MatchString(line):
		m := deleteRe.FindStringSubmatch(line)
		s.delete_(parseInt(m[1]))

	case getRe.MatchString(line):
		m := getRe.FindStringSubmatch(line)
		s.get(in, parseInt(m[1]))

	case scanRe.MatchString(line):
		m := scanRe.FindStringSubmatch(line)
		s.scan(in, parseInt(m[1]), parseInt(m[2]))

	default:
		fmt.Println(`Invalid Input: use Open("database name"), Put(key,value), Get(key), Scan(key1,key2), Delete(key), Close(), Quit().`)
	}
	return false
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func (s *session) open_(name string) {
	db, ok := s.open[name]
	if !ok {
		cfg := lsm.DefaultConfig(s.dataRoot + "/" + name)
		var err error
		db, err = lsm.Open(cfg)
		if err != nil {
			fmt.Printf("Open failed: %v\n", err)
			return
		}
		s.open[name] = db
	}
	s.current = name
	fmt.Printf("Open command with: %s\n", name)
}

func (s *session) close() {
	db, err := s.db()
	if err != nil {
		fmt.Println("You must first open a database to use this operation.")
		return
	}
	if err := db.Close(); err != nil {
		fmt.Printf("Close failed: %v\n", err)
		return
	}
	delete(s.open, s.current)
	s.current = ""
}

func (s *session) put(k, v int64) {
	db, err := s.db()
	if err != nil {
		fmt.Println("You must first open a database to use this operation.")
		return
	}
	if err := db.Put(k, v); err != nil {
		fmt.Printf("Put failed: %v\n", err)
	}
}

func (s *session) delete_(k int64) {
	db, err := s.db()
	if err != nil {
		fmt.Println("You must first open a database to use this operation.")
		return
	}
	if err := db.Delete(k); err != nil {
		fmt.Printf("Delete failed: %v\n", err)
	}
}

func (s *session) promptStrategy(in *bufio.Scanner, label string) (common.Strategy, bool) {
	fmt.Printf("$%s Call %s with Binary Search (1), B-Tree Search (2): ", s.current, label)
	if !in.Scan() {
		return 0, false
	}
	switch strings.TrimSpace(in.Text()) {
	case "1":
		return common.StrategyBinary, true
	case "2":
		return common.StrategyBTree, true
	default:
		fmt.Println("You must select 1 for Get with Binary Search over the leaves or 2 for Get with B-Tree search.")
		return 0, false
	}
}

func (s *session) get(in *bufio.Scanner, k int64) {
	db, err := s.db()
	if err != nil {
		fmt.Println("You must first open a database to use this operation.")
		return
	}
	strategy, ok := s.promptStrategy(in, "Get(key)")
	if !ok {
		return
	}
	v, result, err := db.Get(k, strategy)
	if err != nil {
		fmt.Printf("Get failed: %v\n", err)
		return
	}
	switch result {
	case common.Found:
		fmt.Printf("Got value %d.\n", v)
	case common.Deleted:
		fmt.Printf("%d was deleted from the database.\n", k)
	default:
		fmt.Printf("No value with key %d.\n", k)
	}
}

func (s *session) scan(in *bufio.Scanner, k1, k2 int64) {
	db, err := s.db()
	if err != nil {
		fmt.Println("You must first open a database to use this operation.")
		return
	}
	strategy, ok := s.promptStrategy(in, "Scan(key1, key2)")
	if !ok {
		return
	}
	entries, err := db.Scan(k1, k2, strategy)
	if err != nil {
		fmt.Printf("Scan failed: %v\n", err)
		return
	}
	fmt.Printf("Scanned %d key-value pairs:\n", len(entries))
	for _, e := range entries {
		if e.IsTombstone() {
			fmt.Printf("(%d, Deleted)\n", e.Key)
		} else {
			fmt.Printf("(%d, %d)\n", e.Key, e.Value)
		}
	}
}

func (s *session) quit() {
	for name, db := range s.open {
		if err := db.Close(); err != nil {
			fmt.Printf("error closing %s: %v\n", name, err)
			s.shutdownErr = err
		}
	}
	fmt.Println("Exiting program. Goodbye!")
}
