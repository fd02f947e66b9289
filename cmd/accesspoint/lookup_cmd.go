package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

type lookupOptions struct {
	Participant  string
	DocumentType string
	Process      string
	List         bool
}

func newLookupCmd(root *rootOptions) *cobra.Command {
	var opts lookupOptions

	cmd := &cobra.Command{
		Use:   "lookup --participant <id> [--document-type <id> --process <id> | --list]",
		Short: "Resolve the endpoint of a participant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.Participant) == "" {
				return errors.New("--participant is required")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stderr)

			participant, err := identifier.ParseParticipantIdentifier(opts.Participant)
			if err != nil {
				return err
			}
			dir, network, err := buildDirectory(cfg.Lookup, logger)
			if err != nil {
				return err
			}

			if opts.List {
				if network == nil {
					return errors.New("--list needs a network locator")
				}
				docs, err := network.ListDocumentTypes(cmd.Context(), participant)
				if err != nil {
					return err
				}
				for _, d := range docs {
					cmd.Println(d.URI())
				}
				return nil
			}

			documentType, err := identifier.ParseDocumentTypeIdentifier(opts.DocumentType)
			if err != nil {
				return err
			}
			process, err := identifier.ParseProcessIdentifier(opts.Process)
			if err != nil {
				return err
			}

			resolver, err := buildResolver(cfg, dir, logger, nil)
			if err != nil {
				return err
			}
			ep, err := resolver.Resolve(cmd.Context(), participant, documentType, process)
			if err != nil {
				return err
			}

			cmd.Printf("transport profile: %s\n", ep.TransportProfile)
			if ep.Address != nil {
				cmd.Printf("address: %s\n", ep.Address)
			}
			if ep.Certificate != nil {
				cmd.Printf("certificate.subject: %s\n", ep.Certificate.Subject)
				cmd.Printf("certificate.notAfter: %s\n", ep.Certificate.NotAfter.Format("2006-01-02"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Participant, "participant", "p", "", "participant identifier, e.g. 9908:810017902")
	cmd.Flags().StringVarP(&opts.DocumentType, "document-type", "d", identifier.AcronymBillingInvoice, "document type identifier or acronym")
	cmd.Flags().StringVar(&opts.Process, "process", identifier.AcronymBilling, "process identifier or acronym")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list the document types the participant accepts")
	return cmd
}
