// Package client runs scripts on a remote ImageJ scripting server.
//
// A ScriptRunner owns one request/reply connection. Run assembles the script
// with parameter and output declarations, ships input images through
// temporary TIFF files, waits for the single reply and converts it into a
// Result. Exceptions raised by the remote script are returned as data on the
// Result rather than as a Go error; transport and local failures are errors.
//
//	r, err := client.Dial(ctx, "tcp://localhost:12345")
//	if err != nil {
//		return err
//	}
//	defer r.Disconnect()
//
//	res, err := r.Run(ctx, client.Request{
//		Script:  "x = 2 + 2",
//		Outputs: []script.Output{{Name: "x", Kind: script.KindInteger}},
//	})
//	if err != nil {
//		return err
//	}
//	if err := res.Err(); err != nil {
//		return err
//	}
//	x, _ := res.Int("x") // 4
package client
