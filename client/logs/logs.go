// Package logs exposes info, warning and error loggers.
package logs

import (
	"log"
	"os"
)

var (
	Info    *log.Logger
	Warning *log.Logger
	Err     *log.Logger
)

func init() {
	Init()
}

func Init() {
	Info = log.New(os.Stdout, "I", log.LstdFlags|log.Lshortfile)
	Warning = log.New(os.Stdout, "W", log.LstdFlags|log.Lshortfile)
	Err = log.New(os.Stdout, "E", log.LstdFlags|log.Lshortfile)
}
