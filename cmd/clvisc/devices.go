package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lgpang/clvisc/internal/cl"
)

var (
	devicesSelfTest bool
	devicesType     string
	devicesID       int
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List OpenCL platforms and devices",
	Long: `Enumerates the OpenCL platforms and devices visible on this host.
With --self-test, a small kernel is compiled and run on the selected
device to verify the toolchain end to end.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesSelfTest, "self-test", false, "Compile and run a test kernel on the selected device")
	devicesCmd.Flags().StringVar(&devicesType, "device", "gpu", "Device type for --self-test (cpu, gpu)")
	devicesCmd.Flags().IntVar(&devicesID, "device-id", 0, "Device index for --self-test")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	platforms, err := cl.EnumeratePlatforms()
	if err != nil {
		return err
	}

	if len(platforms) == 0 {
		fmt.Println("No OpenCL platforms found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tDEVICE\tTYPE\tCU\tWORKGROUP\tGLOBAL MEM")
	for _, p := range platforms {
		for i, d := range p.Devices {
			fmt.Fprintf(w, "%s\t[%d] %s\t%s\t%d\t%d\t%d MB\n",
				p.Name, i, d.Name, d.Type, d.MaxComputeUnits,
				d.MaxWorkGroupSize, d.GlobalMemBytes/(1024*1024))
		}
	}
	w.Flush()

	if !devicesSelfTest {
		return nil
	}

	rt, err := cl.NewRuntime(cl.ParseDeviceType(devicesType), devicesID)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer rt.Release()

	if err := cl.SelfTest(rt); err != nil {
		return fmt.Errorf("self test: %w", err)
	}
	fmt.Printf("Self test passed on %s\n", rt.Device().Name)
	return nil
}
