package core

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseCronSchedule(t *testing.T) {
	Convey("Parse Cron Schedule", t, func() {
		Convey("single values and wildcards", func() {
			cs, err := ParseCronSchedule("0 2 * * *")
			So(err, ShouldBeNil)
			So(len(cs.Minute), ShouldEqual, 1)
			So(cs.Minute[0], ShouldBeTrue)
			So(cs.Hour[2], ShouldBeTrue)
			So(len(cs.Day), ShouldEqual, 31)
			So(len(cs.Month), ShouldEqual, 12)
			So(len(cs.Weekday), ShouldEqual, 7)
		})

		Convey("ranges and lists", func() {
			cs, err := ParseCronSchedule("0-5 1-3 * * 1,3,5")
			So(err, ShouldBeNil)
			So(len(cs.Minute), ShouldEqual, 6)
			So(len(cs.Hour), ShouldEqual, 3)
			So(len(cs.Weekday), ShouldEqual, 3)
			So(cs.Weekday[2], ShouldBeFalse)
		})

		Convey("invalid expressions", func() {
			for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "5-1 * * * *", "a * * * *"} {
				_, err := ParseCronSchedule(expr)
				So(err, ShouldNotBeNil)
			}
		})
	})
}

func TestShouldRun(t *testing.T) {
	Convey("upload window", t, func() {
		cs, err := ParseCronSchedule("* 0-6 * * *")
		So(err, ShouldBeNil)

		night := time.Date(2024, 3, 5, 3, 30, 0, 0, time.Local)
		day := time.Date(2024, 3, 5, 13, 0, 0, 0, time.Local)
		So(cs.ShouldRun(night), ShouldBeTrue)
		So(cs.ShouldRun(day), ShouldBeFalse)

		Convey("weekday restriction", func() {
			cs, err := ParseCronSchedule("* * * * 0,6")
			So(err, ShouldBeNil)
			// 2024-03-09 is a Saturday
			So(cs.ShouldRun(time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local)), ShouldBeTrue)
			So(cs.ShouldRun(time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)), ShouldBeFalse)
		})
	})
}
