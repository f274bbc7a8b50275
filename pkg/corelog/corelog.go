// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package corelog provides leveled logging for the attribute storage
// engine. Time/Date are not logged because systemd adds them for us by
// default; pass -logdate to enable them.
//
// Uses these prefixes: https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package corelog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]   "
	InfoPrefix  string = "<6>[INFO]    "
	WarnPrefix  string = "<4>[WARNING] "
	ErrPrefix   string = "<3>[ERROR]   "
)

var (
	DebugLog *log.Logger = log.New(DebugWriter, DebugPrefix, 0)
	InfoLog  *log.Logger = log.New(InfoWriter, InfoPrefix, 0)
	WarnLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	ErrLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.Llongfile)

	DebugTimeLog *log.Logger = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	InfoTimeLog  *log.Logger = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	WarnTimeLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.LstdFlags|log.Lshortfile)
	ErrTimeLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel silences every level below lvl by redirecting its writer to io.Discard.
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Printf("corelog: invalid loglevel %q, using 'info'\n", lvl)
		SetLevel("info")
	}
}

func SetLogDateTime(enabled bool) { logDateTime = enabled }

func Debugf(format string, v ...any) { emit(DebugWriter, DebugLog, DebugTimeLog, format, v...) }
func Infof(format string, v ...any)  { emit(InfoWriter, InfoLog, InfoTimeLog, format, v...) }
func Warnf(format string, v ...any)  { emit(WarnWriter, WarnLog, WarnTimeLog, format, v...) }
func Errorf(format string, v ...any) { emit(ErrWriter, ErrLog, ErrTimeLog, format, v...) }

func Debug(v ...any) { Debugf("%s", fmt.Sprint(v...)) }
func Info(v ...any)  { Infof("%s", fmt.Sprint(v...)) }
func Warn(v ...any)  { Warnf("%s", fmt.Sprint(v...)) }
func Error(v ...any) { Errorf("%s", fmt.Sprint(v...)) }

// Fatal logs at error level and terminates the process.
func Fatal(v ...any) {
	Error(v...)
	os.Exit(1)
}

// Fatalf logs at error level and terminates the process.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}

// Abortf logs a startup-fatal configuration error and terminates the process.
// Distinguished from Fatalf only by intent at the call site (ConfigError, see §7).
func Abortf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}

func emit(w io.Writer, plain, timed *log.Logger, format string, v ...any) {
	if w == io.Discard {
		return
	}
	out := fmt.Sprintf(format, v...)
	if logDateTime {
		timed.Output(3, out)
	} else {
		plain.Output(3, out)
	}
}
