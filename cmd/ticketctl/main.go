// Command ticketctl is an operator tool.  It prints bcrypt hashes for the
// payment API key and mints access tokens for testing against a running
// server.
//
//	ticketctl hash-key --key <secret> [--cost 12]
//	ticketctl issue-token --user 42 --role organizer [--ttl 60]
package main

import (
    "fmt"
    "os"

    "github.com/joho/godotenv"
    "github.com/spf13/pflag"
    "golang.org/x/crypto/bcrypt"

    "github.com/iliyamo/ticketing-core/internal/utils"
)

func usage() {
    fmt.Fprintln(os.Stderr, "usage: ticketctl <hash-key|issue-token> [flags]")
    os.Exit(2)
}

func main() {
    if len(os.Args) < 2 {
        usage()
    }
    var err error
    switch os.Args[1] {
    case "hash-key":
        err = hashKey(os.Args[2:])
    case "issue-token":
        err = issueToken(os.Args[2:])
    default:
        usage()
    }
    if err != nil {
        fmt.Fprintln(os.Stderr, "ticketctl:", err)
        os.Exit(1)
    }
}

func hashKey(args []string) error {
    fs := pflag.NewFlagSet("hash-key", pflag.ExitOnError)
    key := fs.String("key", "", "API key to hash")
    cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
    _ = fs.Parse(args)
    if *key == "" {
        return fmt.Errorf("--key is required")
    }
    hash, err := utils.HashSecret(*key, *cost)
    if err != nil {
        return err
    }
    fmt.Println(hash)
    return nil
}

func issueToken(args []string) error {
    fs := pflag.NewFlagSet("issue-token", pflag.ExitOnError)
    user := fs.Uint64("user", 0, "user id placed in the sub claim")
    role := fs.String("role", "customer", "role claim (guest, customer, organizer, admin)")
    ttl := fs.Int("ttl", 60, "lifetime in minutes")
    secret := fs.String("secret", "", "signing secret (default JWT_SECRET)")
    _ = fs.Parse(args)

    _ = godotenv.Load()
    if *secret == "" {
        *secret = os.Getenv("JWT_SECRET")
    }
    if *secret == "" {
        return fmt.Errorf("no signing secret: set JWT_SECRET or pass --secret")
    }
    if *user == 0 {
        return fmt.Errorf("--user is required")
    }
    tok, err := utils.NewAccessToken(*secret, *user, *role, *ttl)
    if err != nil {
        return err
    }
    fmt.Println(tok.Token)
    return nil
}
