package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

// 压测场景：一行库存只够满足一份申请，N 份同量申请并发过审，
// 校验恰好一份被履约、库存不为负——验证双触发下不超卖。
func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "staff admin token")
	bloodType := flag.Uint("blood-type", 1, "blood type id")
	component := flag.Uint("component", 1, "blood component id")
	quantity := flag.Int("quantity", 10, "per-request quantity (inventory seeded with the same amount)")
	nRequests := flag.Int("requests", 20, "concurrent blood requests")
	concurrency := flag.Int("c", 20, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 种一行刚好够一份申请的库存
	if err := doPOST(client, *baseURL+"/api/inventory", map[string]any{
		"blood_type_id":      *bloodType,
		"blood_component_id": *component,
		"quantity":           *quantity,
		"location":           "hanoi_dongda_langha",
	}, map[string]string{"X-Admin-Token": *adminToken}); err != nil {
		panic(fmt.Sprintf("seed inventory failed: %v", err))
	}
	fmt.Println("inventory seeded")

	// 2) 建 N 份同量申请
	ids := make([]uint, 0, *nRequests)
	for i := 0; i < *nRequests; i++ {
		id, err := createRequest(client, *baseURL, int64(i+1), *bloodType, *component, *quantity)
		if err != nil {
			panic(fmt.Sprintf("create request failed: %v", err))
		}
		ids = append(ids, id)
	}
	fmt.Printf("created %d blood requests\n", len(ids))

	// 3) 并发过审：每次过审都会同步触发一次分配
	fmt.Printf("start race test: requests=%d concurrency=%d\n", len(ids), *concurrency)
	results := approveAll(client, *baseURL, *adminToken, ids, *concurrency)
	printSummary("race", results)

	// 4) 校验恰好一份履约、库存不为负
	fulfilled, err := countFulfilled(client, *baseURL)
	if err != nil {
		fmt.Println("fulfilled check err:", err)
	} else {
		fmt.Println("fulfilled requests:", fulfilled)
		if fulfilled != 1 {
			fmt.Println("FAIL: expected exactly 1 fulfilled request")
		}
	}
	minQty, err := minInventoryQuantity(client, *baseURL)
	if err != nil {
		fmt.Println("inventory check err:", err)
	} else {
		fmt.Println("min inventory quantity:", minQty)
		if minQty < 0 {
			fmt.Println("FAIL: inventory went negative")
		}
	}
}

func approveAll(client *http.Client, baseURL, adminToken string, ids []uint, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(ids))

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, requestID uint) {
			defer wg.Done()
			defer func() { <-sem }()

			url := fmt.Sprintf("%s/api/blood_requests/%d/status", baseURL, requestID)
			results[idx] = postOnce(client, url, map[string]any{"status": "successful"}, map[string]string{
				"X-Admin-Token": adminToken,
			})
		}(i, id)
	}

	wg.Wait()
	return results
}

func createRequest(client *http.Client, baseURL string, userID int64, bloodType, component uint, quantity int) (uint, error) {
	res := postOnce(client, baseURL+"/api/blood_requests", map[string]any{
		"user_id":            userID,
		"blood_type_id":      bloodType,
		"blood_component_id": component,
		"quantity":           quantity,
		"location":           "hanoi_dongda_langha",
	}, nil)
	if res.Err != nil {
		return 0, res.Err
	}
	if res.Status >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", res.Status, res.Body)
	}
	var out struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(res.Body), &out); err != nil {
		return 0, err
	}
	return out.Data.ID, nil
}

func countFulfilled(client *http.Client, baseURL string) (int, error) {
	var out struct {
		Data []struct {
			Fulfilled bool `json:"fulfilled"`
		} `json:"data"`
	}
	if err := getJSON(client, baseURL+"/api/blood_requests", &out); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range out.Data {
		if r.Fulfilled {
			n++
		}
	}
	return n, nil
}

func minInventoryQuantity(client *http.Client, baseURL string) (int, error) {
	var out struct {
		Data []struct {
			Quantity int `json:"quantity"`
		} `json:"data"`
	}
	if err := getJSON(client, baseURL+"/api/inventory", &out); err != nil {
		return 0, err
	}
	minQty := 0
	for i, r := range out.Data {
		if i == 0 || r.Quantity < minQty {
			minQty = r.Quantity
		}
	}
	return minQty, nil
}

func postOnce(client *http.Client, url string, body any, headers map[string]string) Result {
	b, _ := json.Marshal(body)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(respBody)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	res := postOnce(client, url, body, headers)
	if res.Err != nil {
		return res.Err
	}
	if res.Status >= 300 {
		return fmt.Errorf("status=%d body=%s", res.Status, res.Body)
	}
	return nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.Unmarshal(b, out)
}
