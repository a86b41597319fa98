package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelresidency.ai/internal/observerproto"
)

func residencyCmd(args []string) {
	fs := flag.NewFlagSet("residency", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	chunk := fs.String("chunk", "", "report whether one chunk is pending unload: cx,cz")
	_ = fs.Parse(args)

	var q url.Values
	if strings.TrimSpace(*chunk) != "" {
		c, err := parseChunk(*chunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", err)
			os.Exit(2)
		}
		q = url.Values{}
		q.Set("cx", strconv.Itoa(c[0]))
		q.Set("cz", strconv.Itoa(c[1]))
	}
	doAdmin(http.MethodGet, adminURL(*baseURL, "/admin/v1/residency", q), nil)
}

func blockCmd(args []string) {
	fs := flag.NewFlagSet("block", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	x := fs.Int("x", 0, "block x")
	z := fs.Int("z", 0, "block z")
	set := fs.Int("set", -1, "write this block id before reading (0..65535)")
	_ = fs.Parse(args)

	method, q := blockQuery(*x, *z, *set)
	if method == "" {
		fmt.Fprintln(os.Stderr, "bad -set: must be 0..65535")
		os.Exit(2)
	}
	doAdmin(method, adminURL(*baseURL, "/admin/v1/blocks", q), nil)
}

// blockQuery builds the block request; set < 0 means read only.
func blockQuery(x, z, set int) (string, url.Values) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(x))
	q.Set("z", strconv.Itoa(z))
	if set < 0 {
		return http.MethodGet, q
	}
	if set > 65535 {
		return "", nil
	}
	q.Set("b", strconv.Itoa(set))
	return http.MethodPost, q
}

func unloadCmd(args []string) {
	fs := flag.NewFlagSet("unload", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	force := fs.Bool("force", false, "also unload chunks waiting out their grace period")
	_ = fs.Parse(args)

	q := url.Values{}
	if *force {
		q.Set("force", "1")
	}
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/residency/unload_idle", q), nil)
}

func graceCmd(args []string) {
	fs := flag.NewFlagSet("grace", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	delay := fs.Duration("delay", -1, "new chunk unload delay (0 disables)")
	_ = fs.Parse(args)

	if *delay < 0 {
		fmt.Fprintln(os.Stderr, "missing -delay")
		os.Exit(2)
	}
	q := url.Values{}
	q.Set("ms", strconv.FormatInt(delay.Milliseconds(), 10))
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/residency/grace", q), nil)
}

func watchCmd(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	id := fs.String("id", "", "watcher id")
	cx := fs.Int("cx", 0, "center chunk x")
	cz := fs.Int("cz", 0, "center chunk z")
	radius := fs.Int("radius", 0, "view radius in chunks (0 = server default)")
	leave := fs.Bool("leave", false, "remove the watcher instead")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	if *leave {
		q := url.Values{}
		q.Set("id", *id)
		doAdmin(http.MethodDelete, adminURL(*baseURL, "/admin/v1/watchers", q), nil)
		return
	}
	b, _ := json.Marshal(observerproto.WatchRequest{ID: *id, CX: *cx, CZ: *cz, Radius: *radius})
	doAdmin(http.MethodPost, adminURL(*baseURL, "/admin/v1/watchers", nil), b)
}

func adminURL(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func doAdmin(method, u string, body []byte) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, _ := http.NewRequest(method, u, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if len(b) > 0 {
		fmt.Println(strings.TrimSpace(string(b)))
	} else {
		fmt.Println(resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
