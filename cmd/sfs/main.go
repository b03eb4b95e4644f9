// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"
	"storj.io/sfs/sfs"
	"storj.io/sfs/sfs/sfsdb"
)

var (
	rootCmd = &cobra.Command{
		Use:   "sfs",
		Short: "Metadata engine of the S3 gateway",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the metadata engine",
		RunE:  cmdRun,
	}
	confDir string

	runCfg   sfs.Config
	setupCfg sfs.Config
)

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return errs.New("sfs configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := sfsdb.Open(ctx, log.Named("db"), runCfg.DB)
	if err != nil {
		return errs.New("Error opening metadata database: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	peer, err := sfs.New(log, db, &runCfg)
	if err != nil {
		return errs.New("Error creating peer: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, peer.Close())
	}()

	return peer.Run(ctx)
}

func init() {
	defaultConfDir := fpath.ApplicationDir("sfs")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for sfs configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func main() {
	logger, _, _ := process.NewLogger("sfs")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}
