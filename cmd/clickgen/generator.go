package main

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/birdayz/clickstream/operators"
)

const (
	users     = 10
	referrer  = "www.example.com"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/44.0.2403.125 Safari/537.36"
)

// Duplicates weight bar.html and foo.html.
var pages = []string{"support.html", "about.html", "foo.html", "bar.html", "home.html", "search.html", "list.html", "help.html", "bar.html", "foo.html"}

type generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func newGenerator(rnd *rand.Rand, now func() time.Time) *generator {
	return &generator{rnd: rnd, now: now}
}

// next returns a page view of a random user.
func (g *generator) next() operators.PageView {
	return operators.PageView{
		IP:        "66.249.1." + strconv.Itoa(g.rnd.IntN(users)),
		Timestamp: g.now().UnixMilli(),
		URL:       pages[g.rnd.IntN(len(pages))],
		Referrer:  referrer,
		UserAgent: userAgent,
	}
}
