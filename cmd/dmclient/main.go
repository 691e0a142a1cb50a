// Command dmclient is a development tool for the messaging service: it mints
// tokens, sends messages over REST and tails the push channel.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"classifieds-messaging/backend/internal/ws"
	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/jwt"

	"github.com/gorilla/websocket"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8081", "Server base URL")
	user := flag.String("user", "", "Act as this user id")
	token := flag.Bool("token", false, "Print a token for -user signed with JWT_SECRET")
	to := flag.String("to", "", "Send -body to this user id")
	body := flag.String("body", "", "Message body")
	listen := flag.Bool("listen", false, "Tail the push channel for -user")
	flag.Parse()

	if *user == "" || (!*token && *to == "" && !*listen) {
		fmt.Println("dmclient usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg := config.New()
	tokens := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	bearer, err := tokens.GenerateToken(*user)
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	if *token {
		fmt.Println(bearer)
	}

	if *to != "" {
		if err := send(*baseURL, bearer, *to, *body); err != nil {
			fmt.Printf("Error sending message: %v\n", err)
			os.Exit(1)
		}
	}

	if *listen {
		if err := tail(*baseURL, bearer); err != nil {
			fmt.Printf("Listener stopped: %v\n", err)
			os.Exit(1)
		}
	}
}

func send(baseURL, bearer, to, body string) error {
	payload, err := json.Marshal(map[string]string{"receiver_id": to, "body": body})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%d %s\n", resp.StatusCode, respBody)
	return nil
}

func tail(baseURL, bearer string) error {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	auth, err := json.Marshal(map[string]any{"type": ws.TypeAuth, "content": ws.AuthContent{Token: bearer}})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			var frame ws.Message
			if err := json.Unmarshal(data, &frame); err != nil {
				fmt.Printf("Unreadable frame: %s\n", data)
				continue
			}
			fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), frame.Type, frame.Content)
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ping.C:
			frame, _ := json.Marshal(map[string]string{"type": ws.TypePing})
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}
