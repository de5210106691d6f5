package cliui_test

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/scout/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("prints the success mark and returns nil", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "loading companies", func() error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
		Expect(buf.String()).To(ContainSubstring("loading companies"))
	})

	It("prints the fail mark and returns the error", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		err := cliui.Step(&buf, "embedding", func() error { return boom })
		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})

	It("writes a single line without the spinner when not on a terminal", func() {
		var buf bytes.Buffer
		Expect(cliui.Step(&buf, "writing", func() error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})).To(Succeed())

		Expect(buf.String()).NotTo(ContainSubstring("\r"))
		Expect(buf.String()).NotTo(ContainSubstring("⣾"))
		Expect(strings.Count(buf.String(), "\n")).To(Equal(1))
	})
})

var _ = Describe("FormatDuration", func() {
	It("uses milliseconds below one second", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("uses tenths of seconds above one second", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("RenderMarkdownWidth", func() {
	It("keeps the table content", func() {
		out, err := cliui.RenderMarkdownWidth("| Name |\n| --- |\n| Acme |\n", 60)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Acme"))
	})
})
