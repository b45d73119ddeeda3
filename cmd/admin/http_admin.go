package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string, w io.Writer) error {
	return adminCall("state", http.MethodGet, "/admin/v1/state", 5*time.Second, args, w)
}

// snapshotCmd asks a running server to flush and write a snapshot of its level.
func snapshotCmd(args []string, w io.Writer) error {
	return adminCall("snapshot", http.MethodPost, "/admin/v1/snapshot", 40*time.Second, args, w)
}

// cellCmd reads the cell at -pos of a running level, or writes -set into it.
func cellCmd(args []string, w io.Writer) error {
	fs := newFlagSet("cell")
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	posFlag := fs.String("pos", "", "world cell position x,y,z")
	set := fs.Int("set", -1, "cell id to write (negative reads)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	pos, err := parseVec3(*posFlag)
	if err != nil {
		return usageError("-pos: " + err.Error())
	}
	q := url.Values{}
	q.Set("pos", fmt.Sprintf("%d,%d,%d", pos[0], pos[1], pos[2]))
	method := http.MethodGet
	if *set >= 0 {
		method = http.MethodPost
		q.Set("cell", strconv.Itoa(*set))
	}
	return call(*baseURL, method, "/admin/v1/cell?"+q.Encode(), 10*time.Second, w)
}

func adminCall(name, method, path string, timeout time.Duration, args []string, w io.Writer) error {
	fs := newFlagSet(name)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	return call(*baseURL, method, path, timeout, w)
}

func call(baseURL, method, path string, timeout time.Duration, w io.Writer) error {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(w, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
