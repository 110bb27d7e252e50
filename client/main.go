/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization of the terminal messaging client.
 *
 *****************************************************************************/

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	jcr "github.com/tinode/jsonco"

	"github.com/letschat/letschat/client/auth"
	authbasic "github.com/letschat/letschat/client/auth/basic"
	authfirebase "github.com/letschat/letschat/client/auth/firebase"
	"github.com/letschat/letschat/client/logs"
	"github.com/letschat/letschat/client/media"
	_ "github.com/letschat/letschat/client/media/fs"
	_ "github.com/letschat/letschat/client/media/s3"
	"github.com/letschat/letschat/client/store"
	_ "github.com/letschat/letschat/client/store/adapter/firestore"
	_ "github.com/letschat/letschat/client/store/adapter/memory"
	_ "github.com/letschat/letschat/client/store/adapter/mongodb"
	"github.com/letschat/letschat/client/validate"
)

type configType struct {
	StoreConfig json.RawMessage `json:"store_config"`

	Auth struct {
		// "basic" or "firebase".
		Use      string          `json:"use"`
		Basic    json.RawMessage `json:"basic"`
		Firebase json.RawMessage `json:"firebase"`
	} `json:"auth"`

	Media struct {
		// "fs" or "s3", empty disables uploads.
		Use      string                     `json:"use"`
		Handlers map[string]json.RawMessage `json:"handlers"`
	} `json:"media"`

	// Region used when formatting phone numbers for display.
	PhoneRegion string `json:"phone_region"`
}

func loadConfig(path string) (*configType, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config configType
	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("unmarshal error in config in %s at %d:%d: %w",
				jerr.Field, lnum, cnum, jerr)
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return nil, fmt.Errorf("syntax error in config at %d:%d: %w", lnum, cnum, jerr)
		default:
			return nil, err
		}
	}
	return &config, nil
}

func main() {
	logs.Init()

	configfile := flag.String("config", "./letschat.conf", "Path to config file.")
	flag.Parse()

	logs.Info.Printf("Using config from '%s'", *configfile)

	config, err := loadConfig(*configfile)
	if err != nil {
		logs.Err.Fatal(err)
	}

	st, err := store.Open(1, config.StoreConfig)
	if err != nil {
		logs.Err.Fatal("Failed to connect to store: ", err)
	}
	defer st.Close()
	logs.Info.Println("Store adapter:", st.GetAdapterName())

	var authHandler auth.Handler
	switch config.Auth.Use {
	case "", "basic":
		authHandler = authbasic.NewAuthHandler(st)
		err = authHandler.Init(config.Auth.Basic)
	case "firebase":
		authHandler = &authfirebase.AuthHandler{}
		err = authHandler.Init(config.Auth.Firebase)
	default:
		logs.Err.Fatal("Unknown auth handler: ", config.Auth.Use)
	}
	if err != nil {
		logs.Err.Fatal("Failed to init auth handler: ", err)
	}

	var mediaHandler media.Handler
	if config.Media.Use != "" {
		mediaHandler = media.GetHandler(config.Media.Use)
		if mediaHandler == nil {
			logs.Err.Fatal("Unknown media handler: ", config.Media.Use)
		}
		if err = mediaHandler.Init(config.Media.Handlers[config.Media.Use]); err != nil {
			logs.Err.Fatal("Failed to init media handler: ", err)
		}
	}

	sess := NewSession(st, authHandler, mediaHandler)
	defer sess.Close()

	runShell(sess, config.PhoneRegion)
}

// runShell is a minimal line-oriented UI over the session.
func runShell(sess *Session, region string) {
	fmt.Println("commands: signup, login, logout, account, chats, add <number>, open <n>, send <text>, close, quit")
	scanner := bufio.NewScanner(os.Stdin)

	prompt := func() {
		if note, ok := sess.PopNote(); ok {
			if note.Chat != "" {
				fmt.Printf("! %s (chat %s)\n", note.Text, note.Chat)
			} else {
				fmt.Println("!", note.Text)
			}
		}
		fmt.Print("> ")
	}

	readLine := func(label string) string {
		fmt.Print(label, ": ")
		if !scanner.Scan() {
			return ""
		}
		return strings.TrimSpace(scanner.Text())
	}

	for prompt(); scanner.Scan(); prompt() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "":
		case "quit":
			return
		case "signup":
			name := readLine("name")
			number := readLine("number")
			email := readLine("email")
			password := readLine("password")
			sess.SignUp(name, number, email, password)
		case "login":
			email := readLine("email")
			password := readLine("password")
			sess.Login(email, password)
		case "logout":
			sess.Logout()
		case "account":
			if user := sess.Account(); user != nil {
				fmt.Printf("%s  %s\n", user.Name, validate.FormatPhone(user.Number, region))
			} else {
				fmt.Println("profile not loaded")
			}
		case "chats":
			me := sess.Identity()
			for i, chat := range sess.Chats() {
				peer := chat.Peer(me)
				fmt.Printf("%2d. %s  %s\n", i+1, peer.Name, validate.FormatPhone(peer.Number, region))
			}
		case "add":
			sess.AddChat(arg)
		case "open":
			var n int
			fmt.Sscanf(arg, "%d", &n)
			chats := sess.Chats()
			if n < 1 || n > len(chats) {
				fmt.Println("no such chat")
				continue
			}
			sess.OpenChat(chats[n-1].Id)
		case "send":
			if sess.OpenChatId() == "" {
				fmt.Println("no open chat")
				continue
			}
			sess.SendMessage(sess.OpenChatId(), arg)
		case "close":
			sess.CloseChat()
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}
