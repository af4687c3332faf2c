package logger_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/recollectco/recollect/pkg/logger"
)

var _ = Describe("Logger", func() {
	It("writes info logs to the provided writer", func() {
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(false, &buf)
		log.Info("hello")
		log.Sync()
		Expect(buf.String()).To(ContainSubstring("hello"))
	})

	It("suppresses debug logs when debug is disabled", func() {
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(false, &buf)
		log.Debug("quiet")
		log.Sync()
		Expect(buf.String()).NotTo(ContainSubstring("quiet"))
	})

	It("emits debug logs when debug is enabled", func() {
		var buf bytes.Buffer
		log := logger.NewLoggerWithWriters(true, &buf)
		log.Debug("loud")
		log.Sync()
		Expect(buf.String()).To(ContainSubstring("loud"))
	})

	It("fans out to multiple writers", func() {
		var a, b bytes.Buffer
		log := logger.NewLoggerWithWriters(false, &a, &b)
		log.Info("both")
		log.Sync()
		Expect(strings.Contains(a.String(), "both")).To(BeTrue())
		Expect(strings.Contains(b.String(), "both")).To(BeTrue())
	})

	It("returns a usable nop logger", func() {
		log := logger.Nop()
		Expect(log).NotTo(BeNil())
		log.Info("discarded")
	})
})
