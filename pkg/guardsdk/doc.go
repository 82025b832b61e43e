// Package guardsdk is a small client for the faceguard local status API.
//
// The daemon serves read-only JSON on a loopback address (127.0.0.1:8089 by
// default). The same response types are used by the server handlers, so a
// client built from this package always agrees with the wire format.
//
//	c := guardsdk.NewClient("http://127.0.0.1:8089")
//	st, err := c.Status(ctx)
//	if err != nil {
//		return err
//	}
//	fmt.Println(st.State, st.Failures)
//
// Non-2xx responses are returned as *APIError.
package guardsdk
