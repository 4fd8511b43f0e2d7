// Package main provides the divekas binary, the command line interface to
// the coalition key access service: key generation, label signing and
// verification, DEK wrapping, and standalone authorization evaluation.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "divekas",
		Short: "Coalition key access service tooling",
		Long: `divekas manages the cryptographic material and policy decisions of the
coalition key access service:

- keygen: generate a label-signing keypair and a key-encryption key
- sign-label / verify-label: bind a security label to its content
- wrap / unwrap: protect a data-encryption key under a KEK
- evaluate: run an authorization decision against policy data

Labels and subjects are JSON files; policy data (clearance equivalencies,
communities of interest) is YAML.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		keygenCmd(),
		signLabelCmd(),
		verifyLabelCmd(),
		wrapCmd(),
		unwrapCmd(),
		evaluateCmd(),
		serveCmd(),
		versionCmd(),
	)
	return cmd
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("divekas version %s\n", version)
		},
	}
}

func keygenCmd() *cobra.Command {
	var (
		outDir string
		kekID  string
		bits   int
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing keypair and a key-encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}

			key, err := rsa.GenerateKey(rand.Reader, bits)
			if err != nil {
				return fmt.Errorf("generating signing key: %w", err)
			}
			keyPath := filepath.Join(outDir, "label-signing.pem")
			pemData := pem.EncodeToMemory(&pem.Block{
				Type:  "RSA PRIVATE KEY",
				Bytes: x509.MarshalPKCS1PrivateKey(key),
			})
			if err := os.WriteFile(keyPath, pemData, 0o600); err != nil {
				return err
			}

			kek := make([]byte, security.KEKSize)
			if _, err := rand.Read(kek); err != nil {
				return err
			}
			kekPath := filepath.Join(outDir, kekID+".kek")
			if err := os.WriteFile(kekPath, []byte(hex.EncodeToString(kek)+"\n"), 0o600); err != nil {
				return err
			}

			fmt.Printf("Signing key: %s\n", keyPath)
			fmt.Printf("KEK %q:     %s\n", kekID, kekPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "keys", "Output directory")
	cmd.Flags().StringVar(&kekID, "kek-id", "default", "Id of the generated KEK")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	return cmd
}

func signLabelCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "sign-label <label.json>",
		Short: "Sign a security label in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := readLabel(args[0])
			if err != nil {
				return err
			}
			key, err := readSigningKey(keyPath)
			if err != nil {
				return err
			}
			signer, err := security.NewLabelSigner(key)
			if err != nil {
				return err
			}

			sig, err := signer.Sign(l)
			if err != nil {
				return fmt.Errorf("signing label: %w", err)
			}
			l.Signature = sig

			if err := writeLabel(args[0], l); err != nil {
				return err
			}
			fmt.Printf("Signed %s (%s, %d-byte signature)\n", l.ResourceID, signer.Algorithm(), len(sig))
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "PEM file with the RSA signing key")
	cmd.MarkFlagRequired("key")
	return cmd
}

func verifyLabelCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "verify-label <label.json>",
		Short: "Verify a security label's signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := readLabel(args[0])
			if err != nil {
				return err
			}
			key, err := readSigningKey(keyPath)
			if err != nil {
				return err
			}
			verifier, err := security.NewLabelVerifier(&key.PublicKey)
			if err != nil {
				return err
			}

			if !verifier.Verify(l, l.Signature) {
				return fmt.Errorf("label %s: signature verification failed", l.ResourceID)
			}
			fmt.Printf("Label %s: signature valid\n", l.ResourceID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "PEM file with the RSA signing key")
	cmd.MarkFlagRequired("key")
	return cmd
}

func wrapCmd() *cobra.Command {
	var (
		kekPath string
		kekID   string
	)

	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Generate a DEK and wrap it under a KEK",
		Long: `Generates a fresh 256-bit data-encryption key, wraps it under the KEK,
and prints the plaintext DEK and the wrapped key as hex. The plaintext
DEK is printed exactly once; it is not recoverable without the KEK.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kek, err := readKEK(kekPath)
			if err != nil {
				return err
			}

			dek, err := security.GenerateDEK()
			if err != nil {
				return err
			}
			wrapped, err := security.WrapDEK(dek, kek, kekID)
			if err != nil {
				return err
			}

			fmt.Printf("DEK:     %s\n", hex.EncodeToString(dek))
			fmt.Printf("Wrapped: %s\n", hex.EncodeToString(wrapped.Ciphertext))
			fmt.Printf("KEK id:  %s\n", wrapped.KEKID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kekPath, "kek", "k", "", "Hex file with the 32-byte KEK")
	cmd.Flags().StringVar(&kekID, "kek-id", "default", "Id recorded on the wrapped key")
	cmd.MarkFlagRequired("kek")
	return cmd
}

func unwrapCmd() *cobra.Command {
	var (
		kekPath    string
		ciphertext string
	)

	cmd := &cobra.Command{
		Use:   "unwrap",
		Short: "Unwrap a wrapped DEK",
		RunE: func(cmd *cobra.Command, args []string) error {
			kek, err := readKEK(kekPath)
			if err != nil {
				return err
			}
			ct, err := hex.DecodeString(strings.TrimSpace(ciphertext))
			if err != nil {
				return fmt.Errorf("decoding ciphertext: %w", err)
			}

			dek, err := security.UnwrapDEK(&security.WrappedKey{
				Ciphertext: ct,
				Algorithm:  security.AlgorithmAES256KW,
			}, kek)
			if err != nil {
				return err
			}
			fmt.Printf("DEK: %s\n", hex.EncodeToString(dek))
			return nil
		},
	}

	cmd.Flags().StringVarP(&kekPath, "kek", "k", "", "Hex file with the 32-byte KEK")
	cmd.Flags().StringVarP(&ciphertext, "ciphertext", "c", "", "Hex wrapped key")
	cmd.MarkFlagRequired("kek")
	cmd.MarkFlagRequired("ciphertext")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var (
		tablePath   string
		coiPath     string
		subjectPath string
	)

	cmd := &cobra.Command{
		Use:   "evaluate <label.json>",
		Short: "Evaluate an authorization decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := readLabel(args[0])
			if err != nil {
				return err
			}

			table, err := clearance.LoadTable(tablePath)
			if err != nil {
				return err
			}
			registry, err := coi.LoadRegistry(coiPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(subjectPath)
			if err != nil {
				return fmt.Errorf("reading subject: %w", err)
			}
			var subject decision.SubjectAttributes
			if err := json.Unmarshal(data, &subject); err != nil {
				return fmt.Errorf("parsing subject: %w", err)
			}

			evaluator := decision.NewEvaluator(
				clearance.NewResolver(table),
				coi.NewResolver(registry),
			)
			verdict := evaluator.Evaluate(decision.Request{
				Subject:   subject,
				Resource:  l,
				Operation: "read",
			})

			out, err := json.MarshalIndent(verdict, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !verdict.Allowed() {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tablePath, "clearances", "", "Clearance equivalency YAML")
	cmd.Flags().StringVar(&coiPath, "communities", "", "COI registry YAML")
	cmd.Flags().StringVarP(&subjectPath, "subject", "s", "", "Subject attributes JSON")
	cmd.MarkFlagRequired("clearances")
	cmd.MarkFlagRequired("communities")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func readLabel(path string) (*label.SecurityLabel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading label: %w", err)
	}
	var l label.SecurityLabel
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing label: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func writeLabel(path string, l *label.SecurityLabel) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readSigningKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an RSA key", path)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

func readKEK(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading kek: %w", err)
	}
	kek, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding kek: %w", err)
	}
	if len(kek) != security.KEKSize {
		return nil, fmt.Errorf("kek has %d bytes, expected %d", len(kek), security.KEKSize)
	}
	return kek, nil
}
