package core

import (
	"errors"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestErrors(t *testing.T) {
	Convey("error kinds", t, func() {
		err := NewIOError("open", "/x", os.ErrPermission)
		So(errors.Is(err, ERR_IO), ShouldBeTrue)
		So(errors.Is(err, os.ErrPermission), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "/x")

		Convey("require", func() {
			So(func() { Require(true, "never") }, ShouldNotPanic)

			var perr error
			func() {
				defer func() { perr = recover().(error) }()
				Require(false, "chunk %d", 3)
			}()
			So(errors.Is(perr, ERR_PRECONDITION), ShouldBeTrue)
			So(perr.Error(), ShouldContainSubstring, "chunk 3")
		})
	})
}
