// cmd/simple-client/main.go
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

var (
	serverURL  = flag.String("server", "http://localhost:8080", "croj-runner 服务地址")
	sourceFile = flag.String("source", "", "启动运行的源文件路径（服务端可见），为空则只监听事件")
	testSet    = flag.String("set", "", "测试集名称，为空则使用 curTestSet")
)

func main() {
	flag.Parse()
	log := util.InitLogging(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &client{base: strings.TrimRight(*serverURL, "/"), http: http.DefaultClient, out: os.Stdout, log: log}

	stream, err := c.subscribe(ctx)
	if err != nil {
		util.FatalLog("无法连接事件流", "err", err)
	}
	defer stream.Close()
	util.InfoLog("已连接事件流", "server", c.base)

	if *sourceFile != "" {
		if err := c.startRun(ctx, *sourceFile, *testSet); err != nil {
			util.FatalLog("启动运行失败", "err", err)
		}
	}

	if err := c.follow(ctx, stream, *sourceFile != ""); err != nil && ctx.Err() == nil {
		util.FatalLog("事件流中断", "err", err)
	}
}

type client struct {
	base string
	http *http.Client
	out  io.Writer
	log  *slog.Logger
}

func (c *client) subscribe(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (c *client) post(ctx context.Context, path string, body any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s %s", http.MethodPost, path, resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func (c *client) startRun(ctx context.Context, source, set string) error {
	return c.post(ctx, "/runs", map[string]string{"source": source, "testSet": set})
}

// follow prints events until the stream closes. With untilDone it returns
// once every case of the run has ended or compilation failed.
func (c *client) follow(ctx context.Context, stream io.Reader, untilDone bool) error {
	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var (
		data      string
		remaining = -1
	)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			continue
		}
		if line != "" || data == "" {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			c.log.Warn("无法解析事件", "err", err)
			data = ""
			continue
		}
		data = ""

		switch ev := env.Event.(type) {
		case events.Reset:
			remaining = ev.CaseCount
			fmt.Fprintf(c.out, "=== 运行 %s: %d 个用例 ===\n", env.RunID, ev.CaseCount)
			if err := c.post(ctx, "/runs/current/reset-ack", nil); err != nil {
				c.log.Warn("确认 reset 失败", "err", err)
			}
		case events.CompileError:
			fmt.Fprintf(c.out, "编译输出 (fatal=%t):\n%s\n", ev.Fatal, ev.Text)
			if ev.Fatal && untilDone {
				return nil
			}
		case events.BeginCase:
			fmt.Fprintf(c.out, "--- 用例 #%d (测试 %d) ---\n", ev.CaseIndex+1, ev.TestIndex)
		case events.UpdateStdout:
			fmt.Fprint(c.out, ev.Chunk)
		case events.UpdateStderr:
			fmt.Fprint(c.out, ev.Chunk)
		case events.UpdateTime, events.UpdateMemory:
			c.log.Debug("sample", "type", ev.Kind(), "event", ev)
		case events.End:
			fmt.Fprintf(c.out, "状态: %s  正确: %t  %s\n", ev.Status, ev.IsCorrect, ev.ExitMessage)
			if remaining > 0 {
				remaining--
			}
			if untilDone && remaining == 0 {
				return nil
			}
		}
	}
	return sc.Err()
}
