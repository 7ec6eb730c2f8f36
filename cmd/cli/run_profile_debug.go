package main

func (f *runFlags) debugProfile() error {
	if !runCmd.Flags().Changed("report") {
		f.report = reportTypeTable.String()
	}

	if !runCmd.Flags().Changed("lock-backend") {
		f.lockOptions.Backend = "memory"
	}

	if !runCmd.Root().PersistentFlags().Changed("verbose") {
		rootArgs.logOptions.Verbose = 10
		var err error
		logger, syncLogger, err = rootArgs.logOptions.Build(logCores...)
		if err != nil {
			return err
		}
	}

	return nil
}
