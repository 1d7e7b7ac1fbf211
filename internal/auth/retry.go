package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultRetryWait はIdP呼び出しを再試行するまでの待機時間。
const defaultRetryWait = 200 * time.Millisecond

// maxProviderResponseSize はIdPレスポンスとして読み込む最大バイト数。
const maxProviderResponseSize = 1 << 20

// doWithRetry はリクエストを送信し、通信エラーまたは5xxの場合に最大retries回まで再試行する。
// 4xxは再試行しない。最後の試行のレスポンスはステータスに関わらず呼び出し側に返す。
func doWithRetry(ctx context.Context, client *http.Client, retries int, wait time.Duration, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < retries {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderResponseSize))
			resp.Body.Close()
			lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}
