// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sink: avrofile.go implements PersistentSink as one append-only
// file per attribute full_name, Avro-encoded, framed after the teacher's
// pkg/metricstore/walCheckpoint.go WAL records (each frame here is
// [4B magic][4B length][payload][4B CRC32]), and reusing the
// teacher's linkedin/goavro/v2 codec (pkg/metricstore/avroHelper.go,
// avroCheckpoint.go) to turn each header/body row pair into a compact
// binary record instead of hand-rolled field-width encoding.
//
// File layout:
//
//	<root>/<name>.avro
//	  frame 0:        header record  ["field", ...]   (JSON array, one-shot)
//	  frame 1..N:     one Avro-encoded row per AttributeValue, in the
//	                  schema derived from the header (every field typed
//	                  as an Avro ["null","string"] union -- the core only ever stores
//	                  already-rendered field strings, see spec §4.5)
//
// Every Save call appends its header (if the file is new) followed by all
// of its body rows as one buffered write, fsync'd before return, so a
// crash either sees the whole call or none of it.
package sink

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/linkedin/goavro/v2"
)

const (
	FileSinkPerms    = 0o644
	FileSinkDirPerms = 0o755
	frameMagic       = uint32(0x57531001)
)

// FileSink is a filesystem-backed PersistentSink: one file per attribute,
// Avro-encoded rows framed with a length prefix and CRC32 trailer.
type FileSink struct {
	rootDir string

	mu      sync.Mutex
	codecs  map[string]*goavro.Codec
	headers map[string][]string
}

// NewFileSink creates (if needed) rootDir and returns a FileSink rooted there.
func NewFileSink(rootDir string) (*FileSink, error) {
	if err := os.MkdirAll(rootDir, FileSinkDirPerms); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrPersist, rootDir, err)
	}
	return &FileSink{
		rootDir: rootDir,
		codecs:  make(map[string]*goavro.Codec),
		headers: make(map[string][]string),
	}, nil
}

func (f *FileSink) path(name string) string {
	return filepath.Join(f.rootDir, name+".avro")
}

func avroSchemaFor(header []string) string {
	var fields bytes.Buffer
	for i, h := range header {
		if i > 0 {
			fields.WriteByte(',')
		}
		fields.WriteString(fmt.Sprintf(`{"name":%q,"type":["null","string"],"default":null}`, h))
	}
	return fmt.Sprintf(`{"type":"record","name":"AttributeValueRow","fields":[%s]}`, fields.String())
}

func (f *FileSink) codecFor(name string, header []string) (*goavro.Codec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.codecs[name]; ok {
		return c, nil
	}

	c, err := goavro.NewCodec(avroSchemaFor(header))
	if err != nil {
		return nil, fmt.Errorf("%w: compiling avro schema for %s: %v", ErrPersist, name, err)
	}
	f.codecs[name] = c
	f.headers[name] = header
	return c, nil
}

func writeFrame(w *bufio.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], frameMagic)
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(lenBuf[:], crc)
	_, err := w.Write(lenBuf[:])
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(hdr[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: corrupt frame magic", ErrPersist)
	}
	n := binary.BigEndian.Uint32(hdr[4:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(crcBuf[:]) != crc32.ChecksumIEEE(payload) {
		return nil, fmt.Errorf("%w: frame CRC mismatch", ErrPersist)
	}
	return payload, nil
}

// Save implements PersistentSink.
func (f *FileSink) Save(name string, header []string, body [][]string) error {
	if len(body) == 0 {
		return nil
	}

	codec, err := f.codecFor(name, header)
	if err != nil {
		return err
	}

	path := f.path(name)
	if err := os.MkdirAll(filepath.Dir(path), FileSinkDirPerms); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrPersist, name, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, FileSinkPerms)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPersist, name, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrPersist, name, err)
	}

	w := bufio.NewWriter(file)

	if info.Size() == 0 {
		headerPayload, err := json.Marshal(header)
		if err != nil {
			return fmt.Errorf("%w: encoding header for %s: %v", ErrPersist, name, err)
		}
		if err := writeFrame(w, headerPayload); err != nil {
			return fmt.Errorf("%w: writing header frame for %s: %v", ErrPersist, name, err)
		}
	}

	for _, row := range body {
		native := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(row) {
				native[h] = goavro.Union("string", row[i])
			} else {
				native[h] = nil
			}
		}
		payload, err := codec.BinaryFromNative(nil, native)
		if err != nil {
			return fmt.Errorf("%w: encoding row for %s: %v", ErrPersist, name, err)
		}
		if err := writeFrame(w, payload); err != nil {
			return fmt.Errorf("%w: writing row frame for %s: %v", ErrPersist, name, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing %s: %v", ErrPersist, name, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync %s: %v", ErrPersist, name, err)
	}
	return nil
}

// Load implements PersistentSink.
func (f *FileSink) Load(name string, factory RowFactory) ([]any, error) {
	file, err := os.Open(f.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersist, name, err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	headerPayload, err := readFrame(r)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading header for %s: %v", ErrPersist, name, err)
	}

	var header []string
	if err := json.Unmarshal(headerPayload, &header); err != nil {
		return nil, fmt.Errorf("%w: decoding header for %s: %v", ErrPersist, name, err)
	}

	codec, err := f.codecFor(name, header)
	if err != nil {
		return nil, err
	}

	var out []any
	for {
		payload, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading row for %s: %v", ErrPersist, name, err)
		}

		native, _, err := codec.NativeFromBinary(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding row for %s: %v", ErrPersist, name, err)
		}
		fields := native.(map[string]any)

		row := make([]string, len(header))
		for i, h := range header {
			if v, ok := fields[h]; ok && v != nil {
				if u, ok := v.(map[string]any); ok {
					row[i], _ = u["string"].(string)
				}
			}
		}

		value, err := factory(header, row)
		if err != nil {
			return nil, fmt.Errorf("%w: reconstructing row for %s: %v", ErrPersist, name, err)
		}
		out = append(out, value)
	}

	return out, nil
}
