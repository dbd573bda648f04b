package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/cli"
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List and read collected command output",
	}
	cmd.AddCommand(newFilesListCmd(), newFilesCatCmd())
	return cmd
}

func parseFolder(s string) (artifact.Folder, error) {
	switch s {
	case "", "text":
		return artifact.FolderText, nil
	case "json":
		return artifact.FolderJSON, nil
	default:
		return "", fmt.Errorf("unknown folder %q (want text or json)", s)
	}
}

func newFilesListCmd() *cobra.Command {
	var (
		folder     string
		device     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			f, err := parseFolder(folder)
			if err != nil {
				return err
			}
			files, err := svc.FilesList(f, device)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(files)
			}
			if len(files) == 0 {
				fmt.Println("no files")
				return nil
			}

			t := cli.NewTable("FILE", "DEVICE", "COMMAND", "SIZE")
			for _, fi := range files {
				t.Row(fi.Name, fi.Device, fi.Command, fmt.Sprintf("%d", fi.SizeBytes))
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "text", "folder to list (text or json)")
	cmd.Flags().StringVarP(&device, "device", "d", "", "only files for this device")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func newFilesCatCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "cat <filename>",
		Short: "Print one stored artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			f, err := parseFolder(folder)
			if err != nil {
				return err
			}
			data, err := svc.FileRead(f, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "text", "folder to read from (text or json)")
	return cmd
}
