// Command rtsp-testserver serves synthetic streams over RTSP.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	err := newRootCommand(&options{}).Execute()
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
