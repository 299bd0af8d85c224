// Command kvflashd fronts one flashkv.Store with a minimal RESP server:
// GET, SET, DEL and PING only, each serialized through the store's own
// lock. There is no KEYS or SCAN — the store exposes no iteration API,
// so there is nothing for them to walk.
package main

import (
	"flag"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/tidwall/redcon"

	"flashkv"
	"flashkv/blockdevice"
	"flashkv/cmd/internal/logadapter"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6380", "RESP listen address")
	image := flag.String("image", "kvflashd.img", "backing image file")
	length := flag.Uint("length", 1<<20, "region length in bytes, split into two equal areas")
	readSize := flag.Uint("read-size", 1, "device read granularity")
	progSize := flag.Uint("program-size", 8, "device program granularity")
	eraseSize := flag.Uint("erase-size", 4096, "device erase granularity")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logadapter.New(*debug)

	fileLock := flock.New(*image + ".lock")
	held, err := fileLock.TryLock()
	if err != nil {
		log.Fatal(errors.Wrap(err, "acquiring image lock"))
	}
	if !held {
		log.Fatalf("image %s is already open by another process", *image)
	}
	defer fileLock.Unlock()

	dev, err := blockdevice.OpenFileDevice(*image, uint32(*length), uint32(*readSize), uint32(*progSize), uint32(*eraseSize))
	if err != nil {
		log.Fatal(errors.Wrap(err, "opening backing image"))
	}
	defer dev.Close()

	store, err := flashkv.Open(flashkv.Config{
		StartAddr: 0,
		Length:    uint32(*length),
		Device:    dev,
		Logger:    logadapter.Adapter{L: log},
	})
	if err != nil {
		log.Fatal(errors.Wrap(err, "opening store"))
	}
	defer store.Close()

	srv := &server{store: store, log: logadapter.Adapter{L: log}}
	log.Infof("kvflashd listening on %s, image=%s", *addr, filepath.Clean(*image))
	if err := redcon.ListenAndServe(*addr, srv.handle, srv.accept, srv.closed); err != nil {
		log.Fatal(errors.Wrap(err, "serving"))
	}
}

type server struct {
	store *flashkv.Store
	log   logadapter.Adapter
}

func (s *server) accept(conn redcon.Conn) bool { return true }

func (s *server) closed(conn redcon.Conn, err error) {
	if err != nil {
		s.log.Debugf("connection from %s closed: %v", conn.RemoteAddr(), err)
	}
}

func (s *server) handle(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}
	name := strings.ToUpper(string(cmd.Args[0]))
	switch name {
	case "PING":
		conn.WriteString("PONG")
	case "GET":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR usage: GET key")
			return
		}
		s.handleGet(conn, cmd.Args[1])
	case "SET":
		if len(cmd.Args) != 3 {
			conn.WriteError("ERR usage: SET key value")
			return
		}
		s.handleSet(conn, cmd.Args[1], cmd.Args[2])
	case "DEL":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR usage: DEL key")
			return
		}
		s.handleDel(conn, cmd.Args[1])
	default:
		conn.WriteError("ERR unknown command '" + name + "'")
	}
}

func (s *server) handleGet(conn redcon.Conn, key []byte) {
	buf := make([]byte, 256)
	n, err := s.store.Read(key, buf)
	if errors.Is(err, flashkv.ErrInvalidData) && n > len(buf) {
		buf = make([]byte, n)
		n, err = s.store.Read(key, buf)
	}
	switch {
	case err == nil:
		conn.WriteBulk(buf[:n])
	case errors.Is(err, flashkv.ErrItemNotFound):
		conn.WriteNull()
	default:
		conn.WriteError("ERR " + err.Error())
	}
}

func (s *server) handleSet(conn redcon.Conn, key, value []byte) {
	if err := s.store.Write(key, value); err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	conn.WriteString("OK")
}

func (s *server) handleDel(conn redcon.Conn, key []byte) {
	existed, err := s.store.Contains(key)
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	if err := s.store.Delete(key); err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	if existed {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
}
