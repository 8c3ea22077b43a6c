// Package client is the Go SDK for the Sonic Alchemy studio server.
//
// Start a session, then act as that user:
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess, err := c.InitSession(ctx, "user-777")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("balance:", sess.Balance)
//
//	tx, err := c.Transfer(ctx, client.TransferRequest{
//	    Destination: "agent-remediation-001",
//	    Amount:      decimal.NewFromInt(100),
//	})
//
// A saved session token can be reused with WithBearerToken. Operators holding
// the server's admin secret can obtain a system token with AdminToken.
package client
