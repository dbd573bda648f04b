package testutil

// Canned IOS-XR command output for two routers (zwe-r1, zwe-r2) joined by
// two parallel transit segments: a physical link on Gi0/0/0/1 (cost 900)
// and a sub-interface link on Gi0/0/0/2.300 (cost 9999). Both routers also
// hold a management-network adjacency that the topology builder must drop.

const (
	R1RouterID = "172.16.1.1"
	R2RouterID = "172.16.2.2"
)

const ShowVersionIOSXR = `Cisco IOS XR Software, Version 7.3.2
Copyright (c) 2013-2021 by Cisco Systems, Inc.

Build Information:
 Built By     : ingunawa
 Built On     : Wed Oct 13 20:00:46 PDT 2021
 Build Host   : iox-ucs-027

cisco IOS-XRv 9000 () processor
System uptime is 2 weeks 3 days 1 hour 5 minutes
`

const R1OSPFDatabase = `
            OSPF Router with ID (172.16.1.1) (Process ID 1)

                Router Link States (Area 0)

Link ID         ADV Router      Age         Seq#       Checksum Link count
172.16.1.1      172.16.1.1      233         0x8000012a 0x00a1b2 3
172.16.2.2      172.16.2.2      190         0x80000115 0x00c3d4 3

                Net Link States (Area 0)

Link ID         ADV Router      Age         Seq#       Checksum
192.168.12.1    172.16.1.1      233         0x80000002 0x00e5f6
192.168.23.1    172.16.1.1      233         0x80000002 0x00a7b8
`

const R2OSPFDatabase = `
            OSPF Router with ID (172.16.2.2) (Process ID 1)

                Router Link States (Area 0)

Link ID         ADV Router      Age         Seq#       Checksum Link count
172.16.1.1      172.16.1.1      234         0x8000012a 0x00a1b2 3
172.16.2.2      172.16.2.2      191         0x80000115 0x00c3d4 3
`

const R1RouterLSA = `
            OSPF Router with ID (172.16.1.1) (Process ID 1)

                Router Link States (Area 0)

  LS age: 233
  Options: (No TOS-capability, DC)
  LS Type: Router Links
  Link State ID: 172.16.1.1
  Advertising Router: 172.16.1.1
  LS Seq Number: 8000012a
  Checksum: 0xa1b2
  Length: 60
   Number of Links: 3

    Link connected to: a Transit Network
     (Link ID) Designated Router address: 192.168.12.1
     (Link Data) Router Interface address: 192.168.12.1
      Number of TOS metrics: 0
       TOS 0 Metrics: 900

    Link connected to: a Transit Network
     (Link ID) Designated Router address: 192.168.23.1
     (Link Data) Router Interface address: 192.168.23.1
      Number of TOS metrics: 0
       TOS 0 Metrics: 9999

    Link connected to: a Stub Network
     (Link ID) Network/subnet number: 172.16.1.1
     (Link Data) Network Mask: 255.255.255.255
      Number of TOS metrics: 0
       TOS 0 Metrics: 1

  LS age: 190
  Options: (No TOS-capability, DC)
  LS Type: Router Links
  Link State ID: 172.16.2.2
  Advertising Router: 172.16.2.2
  LS Seq Number: 80000115
  Checksum: 0xc3d4
  Length: 60
   Number of Links: 3

    Link connected to: a Transit Network
     (Link ID) Designated Router address: 192.168.12.1
     (Link Data) Router Interface address: 192.168.12.2
      Number of TOS metrics: 0
       TOS 0 Metrics: 900

    Link connected to: a Transit Network
     (Link ID) Designated Router address: 192.168.23.1
     (Link Data) Router Interface address: 192.168.23.2
      Number of TOS metrics: 0
       TOS 0 Metrics: 9999
`

const R2RouterLSA = R1RouterLSA

const NetworkLSA = `
            OSPF Router with ID (172.16.1.1) (Process ID 1)

                Net Link States (Area 0)

  LS age: 233
  Options: (No TOS-capability, DC)
  LS Type: Network Links
  Link State ID: 192.168.12.1 (address of Designated Router)
  Advertising Router: 172.16.1.1
  LS Seq Number: 80000002
  Checksum: 0xe5f6
  Length: 32
  Network Mask: /30
        Attached Router: 172.16.1.1
        Attached Router: 172.16.2.2

  LS age: 233
  Options: (No TOS-capability, DC)
  LS Type: Network Links
  Link State ID: 192.168.23.1 (address of Designated Router)
  Advertising Router: 172.16.1.1
  LS Seq Number: 80000002
  Checksum: 0xa7b8
  Length: 32
  Network Mask: /30
        Attached Router: 172.16.1.1
        Attached Router: 172.16.2.2
`

const R1InterfaceBrief = `
* Indicates MADJ interface
# Indicates fast detect hold down time

Interfaces for OSPF 1

Interface        PID   Area            IP Address/Mask    Cost  State Nbrs F/C
Lo0              1     0               172.16.1.1/32      1     LOOP  0/0
Gi0/0/0/1        1     0               192.168.12.1/30    900   DR    1/1
Gi0/0/0/2.300    1     0               192.168.23.1/30    9999  DR    1/1
`

const R2InterfaceBrief = `
* Indicates MADJ interface
# Indicates fast detect hold down time

Interfaces for OSPF 1

Interface        PID   Area            IP Address/Mask    Cost  State Nbrs F/C
Lo0              1     0               172.16.2.2/32      1     LOOP  0/0
Gi0/0/0/1        1     0               192.168.12.2/30    900   BDR   1/1
Gi0/0/0/2.300    1     0               192.168.23.2/30    9999  BDR   1/1
`

const R1Neighbors = `
* Indicates MADJ interface
# Indicates Neighbor awaiting BFD session up

Neighbors for OSPF 1

Neighbor ID     Pri   State           Dead Time   Address         Interface
172.16.2.2      1     FULL/DR         00:00:38    192.168.12.2    GigabitEthernet0/0/0/1
172.16.2.2      1     FULL/DR         00:00:33    192.168.23.2    GigabitEthernet0/0/0/2.300
172.16.9.9      1     FULL/DR         00:00:35    10.255.0.9      MgmtEth0/RP0/CPU0/0

Total neighbor count: 3
`

const R2Neighbors = `
* Indicates MADJ interface
# Indicates Neighbor awaiting BFD session up

Neighbors for OSPF 1

Neighbor ID     Pri   State           Dead Time   Address         Interface
172.16.1.1      1     FULL/BDR        00:00:36    192.168.12.1    GigabitEthernet0/0/0/1
172.16.1.1      1     FULL/BDR        00:00:31    192.168.23.1    GigabitEthernet0/0/0/2.300
172.16.9.9      1     2WAY/DROTHER    00:00:35    10.255.0.9      MgmtEth0/RP0/CPU0/0

Total neighbor count: 3
`
