package client_test

import (
	"context"
	"fmt"
	"net/http/httptest"

	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/fakegw"
)

func ExampleClient_GetKeysWithPrefix() {
	ctx := context.Background()
	gw := fakegw.New()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	cli, err := client.New(srv.URL, client.WithVersion(gw.Version()))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer cli.Close()

	for _, kv := range [][2]string{{"/svc/a", "10.0.0.1"}, {"/svc/b", "10.0.0.2"}, {"/other", "x"}} {
		if _, err := cli.Put(ctx, kv[0], kv[1]); err != nil {
			fmt.Println("error:", err)
			return
		}
	}
	res, err := cli.GetKeysWithPrefix(ctx, "/svc/")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, kv := range res.Body.KVs() {
		fmt.Println(kv.Key, kv.Value)
	}
	// Output:
	// /svc/a 10.0.0.1
	// /svc/b 10.0.0.2
}

func ExampleClient_SetPretty() {
	ctx := context.Background()
	gw := fakegw.New()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	cli, err := client.New(srv.URL, client.WithVersion(gw.Version()), client.WithPretty(true))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if _, err := cli.Put(ctx, "greeting", "hello"); err != nil {
		fmt.Println("error:", err)
		return
	}
	res, err := cli.Get(ctx, "greeting")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(res.Value())
	// Output: map[greeting:hello]
}
